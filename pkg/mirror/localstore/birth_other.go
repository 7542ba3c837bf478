//go:build !linux && !darwin

package localstore

import (
	"os"
	"time"
)

func osBirthTime(string, os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
