package queue

import (
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
)

const (
	jobsTable = "jobs"

	idIndex             = "id"
	keyIndex            = "key"
	sourceIndex         = "source"
	sourcePlatformIndex = "source_platform"
	sourceUUIDIndex     = "source_uuid"
	inFlightIndex       = "in_flight"
)

// entry is the indexed row for a live job. Rows are never modified in place;
// a state change inserts a replacement row.
type entry struct {
	Handle     job.Handle
	Key        string
	Source     string
	Platform   string
	SourceUUID string
	InFlight   bool
}

func newEntry(j *job.Job, inFlight bool) *entry {
	id := j.Identity()
	return &entry{
		Handle:     j.Handle(),
		Key:        id.Key(),
		Source:     id.Source,
		Platform:   id.Platform,
		SourceUUID: j.SourceUUID().String(),
		InFlight:   inFlight,
	}
}

func newDB() (*memdb.MemDB, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobsTable: {
				Name: jobsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "Handle"},
					},
					keyIndex: {
						Name:    keyIndex,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
					sourceIndex: {
						Name:    sourceIndex,
						Indexer: &memdb.StringFieldIndex{Field: "Source"},
					},
					sourcePlatformIndex: {
						Name: sourcePlatformIndex,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Source"},
								&memdb.StringFieldIndex{Field: "Platform"},
							},
						},
					},
					sourceUUIDIndex: {
						Name:    sourceUUIDIndex,
						Indexer: &memdb.StringFieldIndex{Field: "SourceUUID"},
					},
					inFlightIndex: {
						Name:    inFlightIndex,
						Indexer: &memdb.BoolFieldIndex{Field: "InFlight"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	return db, errors.WithStack(err)
}
