package scan

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/nsqio/go-diskqueue"
	"github.com/rs/zerolog/log"
)

type queueItem struct {
	Seq  int    `json:"seq"`
	Path string `json:"path"`
}

// setupQueue creates the on-disk file queue. Large trees are enumerated
// ahead of the workers without holding every path in memory.
func setupQueue(folder string) (diskqueue.Interface, string, error) {
	log.Debug().Msg("Setting up queue on disk")

	queueDirectory := folder
	if queueDirectory == "" {
		queueDirectory = os.TempDir()
	} else if !filepath.IsAbs(queueDirectory) {
		abs, err := filepath.Abs(queueDirectory)
		if err != nil {
			return nil, "", err
		}
		queueDirectory = abs
	}

	if err := os.MkdirAll(queueDirectory, format.DirUserOnly); err != nil {
		return nil, "", err
	}

	tmpfile, err := os.CreateTemp(queueDirectory, "docleek-queue-db-")
	if err != nil {
		return nil, "", err
	}
	queueFile := tmpfile.Name()
	_ = tmpfile.Close()

	q := diskqueue.New(
		filepath.Base(queueFile),
		queueDirectory,
		1<<20,         // max segment size
		0,             // min message size
		math.MaxInt32, // max message size
		2500,          // sync every n messages
		2*time.Second, // sync interval
		func(lvl diskqueue.LogLevel, f string, args ...interface{}) {
			if lvl >= diskqueue.ERROR {
				log.Error().Msgf(f, args...)
			}
		},
	)

	log.Debug().Str("queueFile", queueFile).Msg("Queue setup complete")
	return q, queueFile, nil
}

func enqueue(q diskqueue.Interface, item queueItem) error {
	b, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.Put(b)
}

func teardownQueue(q diskqueue.Interface, queueFile string) {
	if err := q.Delete(); err != nil {
		log.Debug().Err(err).Msg("Failed deleting queue")
	}
	_ = os.Remove(queueFile)
}
