package tally

import "github.com/xraph/tally/id"

// ID is the primary identifier type for all tally entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// ParseID parses any tally TypeID string.
var ParseID = id.Parse
