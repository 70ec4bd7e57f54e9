// Package id provides ID generation helpers shared by the coordinator, job
// engine, and crawler.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings — time-ordered so IDs sort roughly by
// creation order without leaking a sequential counter.
type Generator struct{}

// NewGenerator constructs a Generator.
func NewGenerator() *Generator { return &Generator{} }

// NewID returns a UUIDv7 string, matching the func() string shape every
// component's IDGenerator field expects. Panics only if the runtime cannot
// source randomness, which NewV7 itself treats as unrecoverable.
func (Generator) NewID() string {
	v, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("generate uuid7: %v", err))
	}
	return v.String()
}
