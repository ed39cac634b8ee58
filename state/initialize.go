package state

import (
	"time"

	"github.com/google/uuid"
)

func newLocalEnv() *LocalEnv {
	id, err := uuid.NewV7()
	if err != nil {
		// time based generation failed, random one is as good
		id = uuid.New()
	}
	return &LocalEnv{
		RunID: id,
		start: time.Now(),
	}
}
