// Package domain provides the typed identifiers shared across the exchange
// engine. IDs are distinct types over uuid.UUID so an instance ID can never be
// passed where a party ID is expected; parsing enforces the trust-boundary
// invariant that IDs are valid, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "handoff/pkg/domain-errors"
)

type (
	// InstanceID identifies one concrete exchange occurrence.
	InstanceID uuid.UUID
	// DefinitionID references the scheduling collaborator's exchange template.
	DefinitionID uuid.UUID
	// PartyID identifies a parent/guardian party. Resolution to a display
	// name belongs to the identity collaborator, never to this engine.
	PartyID uuid.UUID
)

func (id InstanceID) String() string   { return uuid.UUID(id).String() }
func (id DefinitionID) String() string { return uuid.UUID(id).String() }
func (id PartyID) String() string      { return uuid.UUID(id).String() }

// IsZero reports whether the ID is the nil UUID.
func (id InstanceID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DefinitionID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id PartyID) IsZero() bool      { return uuid.UUID(id) == uuid.Nil }

// NewInstanceID generates a fresh instance ID.
func NewInstanceID() InstanceID { return InstanceID(uuid.New()) }

// NewDefinitionID generates a fresh definition ID.
func NewDefinitionID() DefinitionID { return DefinitionID(uuid.New()) }

// NewPartyID generates a fresh party ID.
func NewPartyID() PartyID { return PartyID(uuid.New()) }

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return parsed, nil
}

// ParseInstanceID parses an instance ID from its string form.
func ParseInstanceID(raw string) (InstanceID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return InstanceID{}, err
	}
	return InstanceID(parsed), nil
}

// ParseDefinitionID parses a definition ID from its string form.
func ParseDefinitionID(raw string) (DefinitionID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return DefinitionID{}, err
	}
	return DefinitionID(parsed), nil
}

// ParsePartyID parses a party ID from its string form.
func ParsePartyID(raw string) (PartyID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return PartyID{}, err
	}
	return PartyID(parsed), nil
}
