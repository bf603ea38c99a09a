package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("REFINERY_TEST_MODE") == "" {
			_ = os.Setenv("REFINERY_TEST_MODE", "1")
		}
	})
}
