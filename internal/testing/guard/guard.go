package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("UTILIBILL_TEST_MODE") == "" {
			_ = os.Setenv("UTILIBILL_TEST_MODE", "1")
		}
	})
}
