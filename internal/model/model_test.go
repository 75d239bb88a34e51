package model

import (
	"errors"
	"strings"
	"testing"
)

func TestNewWorkspaceIDRejectsEmptyInput(testContext *testing.T) {
	if _, err := NewWorkspaceID("   "); !errors.Is(err, ErrInvalidWorkspaceID) {
		testContext.Fatalf("expected invalid workspace id error, got %v", err)
	}
}

func TestNewWorkspaceIDTrimsWhitespace(testContext *testing.T) {
	id, err := NewWorkspaceID("  workspace-1  ")
	if err != nil {
		testContext.Fatalf("unexpected workspace id error: %v", err)
	}
	if id.String() != "workspace-1" {
		testContext.Fatalf("expected trimmed identifier, got %q", id.String())
	}
}

func TestNewMutationIDRejectsOversizedInput(testContext *testing.T) {
	oversized := strings.Repeat("a", maxIdentifierLength+1)
	if _, err := NewMutationID(oversized); !errors.Is(err, ErrInvalidMutationID) {
		testContext.Fatalf("expected invalid mutation id error, got %v", err)
	}
}

func TestParseMutationTypeAcceptsEveryMember(testContext *testing.T) {
	members := []string{
		"create-node", "update-node", "delete-node",
		"create-reaction", "delete-reaction",
		"mark-seen", "mark-opened", "update-document",
	}
	for _, member := range members {
		parsed, err := ParseMutationType(member)
		if err != nil {
			testContext.Fatalf("expected %q to parse, got %v", member, err)
		}
		if parsed.String() != member {
			testContext.Fatalf("expected %q, got %q", member, parsed.String())
		}
	}
}

func TestParseMutationTypeRejectsUnknownMember(testContext *testing.T) {
	if _, err := ParseMutationType("rename-workspace"); !errors.Is(err, ErrUnknownMutationType) {
		testContext.Fatalf("expected unknown mutation type error, got %v", err)
	}
}

func TestParseMutationTypeNormalizesCase(testContext *testing.T) {
	parsed, err := ParseMutationType(" Create-Node ")
	if err != nil {
		testContext.Fatalf("unexpected parse error: %v", err)
	}
	if parsed != MutationTypeCreateNode {
		testContext.Fatalf("expected create-node, got %q", parsed.String())
	}
}

func TestParseEntityKindRejectsUnknownKind(testContext *testing.T) {
	if _, err := ParseEntityKind("comments"); !errors.Is(err, ErrUnknownEntityKind) {
		testContext.Fatalf("expected unknown entity kind error, got %v", err)
	}
}

func TestAllEntityKindsCoversParseableKinds(testContext *testing.T) {
	for _, kind := range AllEntityKinds() {
		if _, err := ParseEntityKind(string(kind)); err != nil {
			testContext.Fatalf("expected %q to parse, got %v", kind, err)
		}
	}
	if len(AllEntityKinds()) != 6 {
		testContext.Fatalf("expected six entity kinds, got %d", len(AllEntityKinds()))
	}
}

func TestParseCursorEmptyMeansBeginning(testContext *testing.T) {
	cursor, err := ParseCursor("")
	if err != nil {
		testContext.Fatalf("unexpected cursor error: %v", err)
	}
	if cursor != 0 {
		testContext.Fatalf("expected zero cursor, got %d", cursor)
	}
}

func TestParseCursorRejectsNegativeValues(testContext *testing.T) {
	if _, err := ParseCursor("-3"); !errors.Is(err, ErrInvalidCursor) {
		testContext.Fatalf("expected invalid cursor error, got %v", err)
	}
}

func TestParseCursorRejectsNonNumeric(testContext *testing.T) {
	if _, err := ParseCursor("abc"); !errors.Is(err, ErrInvalidCursor) {
		testContext.Fatalf("expected invalid cursor error, got %v", err)
	}
}

func TestCursorRoundTrip(testContext *testing.T) {
	formatted := FormatCursor(42)
	parsed, err := ParseCursor(formatted)
	if err != nil {
		testContext.Fatalf("unexpected cursor error: %v", err)
	}
	if parsed != 42 {
		testContext.Fatalf("expected cursor 42, got %d", parsed)
	}
}

func TestCreateNodePayloadValidateRequiresKind(testContext *testing.T) {
	payload := CreateNodePayload{NodeID: "node-1"}
	if err := payload.Validate(); !errors.Is(err, ErrInvalidPayload) {
		testContext.Fatalf("expected invalid payload error, got %v", err)
	}
}

func TestInteractionPayloadValidateRequiresPositiveTimestamp(testContext *testing.T) {
	payload := InteractionPayload{NodeID: "node-1", ObservedAtSeconds: 0}
	if err := payload.Validate(); !errors.Is(err, ErrInvalidPayload) {
		testContext.Fatalf("expected invalid payload error, got %v", err)
	}
}

func TestUpdateDocumentPayloadValidateRejectsBadBase64(testContext *testing.T) {
	payload := UpdateDocumentPayload{DocumentID: "doc-1", DeltaB64: "not base64!!"}
	if err := payload.Validate(); !errors.Is(err, ErrInvalidPayload) {
		testContext.Fatalf("expected invalid payload error, got %v", err)
	}
}

func TestUpdateDocumentPayloadValidateAcceptsBase64(testContext *testing.T) {
	payload := UpdateDocumentPayload{DocumentID: "doc-1", DeltaB64: "AQID"}
	if err := payload.Validate(); err != nil {
		testContext.Fatalf("unexpected payload error: %v", err)
	}
}
