package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestUniqueConstraint(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolation, ConstraintName: "composition_versions_composition_id_version_number_key"})
	name, ok := uniqueConstraint(err)
	if !ok {
		t.Fatalf("expected unique violation to be detected")
	}
	if name != "composition_versions_composition_id_version_number_key" {
		t.Fatalf("unexpected constraint name %q", name)
	}

	if _, ok := uniqueConstraint(errors.New("boom")); ok {
		t.Fatalf("plain error reported as unique violation")
	}
	if _, ok := uniqueConstraint(&pgconn.PgError{Code: "23503"}); ok {
		t.Fatalf("foreign key violation reported as unique violation")
	}
}

func TestNullableUUIDRoundTrip(t *testing.T) {
	if got := uuidPointer(nullableUUID(nil)); got != nil {
		t.Fatalf("nil show id came back as %v", got)
	}
	nilID := uuid.Nil
	if got := uuidPointer(nullableUUID(&nilID)); got != nil {
		t.Fatalf("zero uuid should be stored as NULL, got %v", got)
	}
	id := uuid.New()
	got := uuidPointer(nullableUUID(&id))
	if got == nil || *got != id {
		t.Fatalf("expected %s, got %v", id, got)
	}
}

func TestMarshalJSONBFallback(t *testing.T) {
	encoded, err := marshalJSONB(nil, "{}")
	if err != nil || string(encoded) != "{}" {
		t.Fatalf("nil value: got %q, %v", encoded, err)
	}
	var assets map[string]string
	encoded, err = marshalJSONB(assets, "{}")
	if err != nil || string(encoded) != "{}" {
		t.Fatalf("nil map: got %q, %v", encoded, err)
	}
	encoded, err = marshalJSONB(map[string]string{"BG.MAIN": "bg"}, "{}")
	if err != nil || string(encoded) != `{"BG.MAIN":"bg"}` {
		t.Fatalf("map: got %q, %v", encoded, err)
	}

	var decoded map[string]string
	if err := unmarshalJSONB(nil, &decoded); err != nil || decoded != nil {
		t.Fatalf("empty column should leave target untouched: %v %v", decoded, err)
	}
}
