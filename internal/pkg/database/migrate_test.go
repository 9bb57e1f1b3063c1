package database

import (
	"strings"
	"testing"
)

func TestSchema_DeclaresUniquenessConstraints(t *testing.T) {
	ddl := Schema()
	for _, constraint := range []string{
		"member_likes_pair_key",
		"user_blocks_pair_key",
		"member_matches_pkey",
		"access_requests_pair_key",
		"conversation_threads_pair_key",
		"conversation_messages_system_key",
		"notification_records_pkey",
	} {
		if !strings.Contains(ddl, constraint) {
			t.Errorf("schema is missing constraint %s", constraint)
		}
	}
}

func TestSchema_DeclaresSelfReferenceChecks(t *testing.T) {
	ddl := Schema()
	for _, constraint := range []string{
		"member_likes_no_self",
		"user_blocks_no_self",
		"access_requests_no_self",
		"member_matches_canonical",
		"conversation_threads_canonical",
	} {
		if !strings.Contains(ddl, constraint) {
			t.Errorf("schema is missing check %s", constraint)
		}
	}
}

func TestSchema_MessagesCannotBeDeleted(t *testing.T) {
	if !strings.Contains(Schema(), "BEFORE UPDATE OR DELETE ON conversation_messages") {
		t.Fatal("expected retention trigger on conversation_messages")
	}
}
