package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Domain prefixes for hashed identities. The version suffix allows a
// future algorithm change without colliding with stored keys.
const (
	DomainIdempotency = "crewflow/idempotency/v1"
	DomainTransition  = "crewflow/transition/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SemanticKey identifies "the same side effect" across repeated
// evaluations, e.g. a commission of one type for one owner and contract.
type SemanticKey struct {
	Kind       string
	EntityType EntityType
	EntityID   string
	Parts      map[string]string
}

// CommissionKey is keyed by (owner, commission type, source entity).
func CommissionKey(t EntityTransition, ownerID, commissionType string) SemanticKey {
	return SemanticKey{
		Kind:       "commission",
		EntityType: t.EntityType,
		EntityID:   t.EntityID,
		Parts: map[string]string{
			"owner": ownerID,
			"type":  commissionType,
		},
	}
}

// AgreementKey is keyed by (entity, document type).
func AgreementKey(t EntityTransition, documentType string) SemanticKey {
	return SemanticKey{
		Kind:       "agreement",
		EntityType: t.EntityType,
		EntityID:   t.EntityID,
		Parts:      map[string]string{"documentType": documentType},
	}
}

// Hash returns the content-addressed form stored by guards.
func (k SemanticKey) Hash() (string, error) {
	parts := make(map[string]any, len(k.Parts))
	for p, v := range k.Parts {
		parts[p] = v
	}
	canonical, err := MarshalCanonical(map[string]any{
		"kind":        k.Kind,
		"entity_type": string(k.EntityType),
		"entity_id":   k.EntityID,
		"parts":       parts,
	})
	if err != nil {
		return "", fmt.Errorf("semantic key: %w", err)
	}
	return hashWithDomain(DomainIdempotency, canonical), nil
}

// String renders a readable form for logs and audit detail.
func (k SemanticKey) String() string {
	names := make([]string, 0, len(k.Parts))
	for p := range k.Parts {
		names = append(names, p)
	}
	sort.Strings(names)
	pairs := make([]string, len(names))
	for i, p := range names {
		pairs[i] = p + "=" + k.Parts[p]
	}
	return fmt.Sprintf("%s:%s/%s[%s]", k.Kind, k.EntityType, k.EntityID, strings.Join(pairs, ","))
}

// TransitionHash identifies a transition's content. Two submissions of
// the same diff for the same entity hash equally.
func TransitionHash(t EntityTransition) (string, error) {
	obj := map[string]any{
		"entity_type": string(t.EntityType),
		"entity_id":   t.EntityID,
		"new":         map[string]any(t.NewValues),
	}
	if t.OldValues != nil {
		obj["old"] = map[string]any(t.OldValues)
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("transition hash: %w", err)
	}
	return hashWithDomain(DomainTransition, canonical), nil
}

// DomainDefinition versions definition content hashes.
const DomainDefinition = "crewflow/definition/v1"

// DefinitionHash identifies a definition's authored content, ignoring the
// store-assigned version and creation time. Actions must carry RawConfig.
func DefinitionHash(def WorkflowDefinition) (string, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("definition hash: %w", err)
	}
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return "", fmt.Errorf("definition hash: %w", err)
	}
	delete(obj, "version")
	delete(obj, "createdAt")
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("definition hash: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}
