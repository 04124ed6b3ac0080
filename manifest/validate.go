package manifest

import (
	"strings"

	"wildland.io/core/keys"
)

// validate applies the structural schema for the manifest's kind. It runs
// during Parse, before any trust decision, so rules here must not depend
// on key material.
func validate(m *Manifest) error {
	if m.Kind == "" {
		return newError(KindSchema, "WL-VAL-001", "missing object field")
	}
	if m.Owner == "" {
		return newError(KindSchema, "WL-VAL-002", "missing owner field")
	}
	if !keys.IsFingerprint(m.Owner) {
		return newError(KindSchema, "WL-VAL-003", "owner is not a fingerprint: "+m.Owner)
	}

	switch m.Kind {
	case KindUser:
		return validateUser(m)
	case KindContainer:
		return validateContainer(m)
	case KindStorage:
		return validateStorage(m)
	case KindBridge:
		return validateBridge(m)
	default:
		return newError(KindSchema, "WL-VAL-004", "unknown object kind: "+string(m.Kind))
	}
}

func validateUser(m *Manifest) error {
	body, err := m.User()
	if err != nil {
		return err
	}
	if len(body.Pubkeys) == 0 {
		return newError(KindSchema, "WL-VAL-010", "user manifest has no pubkeys")
	}
	for _, pk := range body.Pubkeys {
		if _, err := keys.ParsePublicKey(pk); err != nil {
			return wrapError(KindSchema, "WL-VAL-011", "invalid pubkey in user manifest", err)
		}
	}
	return validatePaths(body.Paths, "WL-VAL-012", false)
}

func validateContainer(m *Manifest) error {
	body, err := m.Container()
	if err != nil {
		return err
	}
	if err := validatePaths(body.Paths, "WL-VAL-020", true); err != nil {
		return err
	}
	for _, cat := range body.Categories {
		if !strings.HasPrefix(cat, "/") {
			return newError(KindSchema, "WL-VAL-021", "category path must be absolute: "+cat)
		}
	}
	if len(body.Categories) > 0 && body.Title == "" {
		return newError(KindSchema, "WL-VAL-022", "categories require a title")
	}
	if len(body.Backends.Storage) == 0 {
		return newError(KindSchema, "WL-VAL-023", "container has no storage backends")
	}
	return nil
}

func validateStorage(m *Manifest) error {
	body, err := m.Storage()
	if err != nil {
		return err
	}
	if body.Type == "" {
		return newError(KindSchema, "WL-VAL-030", "storage manifest has no type")
	}
	if body.ContainerPath != "" && !strings.HasPrefix(body.ContainerPath, "/") {
		return newError(KindSchema, "WL-VAL-031", "container-path must be absolute: "+body.ContainerPath)
	}
	if p := body.ManifestPattern; p != nil {
		if p.Type != "path" && p.Type != "glob" {
			return newError(KindSchema, "WL-VAL-032", "manifest-pattern type must be path or glob")
		}
		if !strings.HasPrefix(p.Path, "/") {
			return newError(KindSchema, "WL-VAL-033", "manifest-pattern path must be absolute")
		}
	}
	return nil
}

func validateBridge(m *Manifest) error {
	body, err := m.Bridge()
	if err != nil {
		return err
	}
	if body.User.IsZero() {
		return newError(KindSchema, "WL-VAL-040", "bridge manifest has no user reference")
	}
	if body.Pubkey != "" {
		if _, err := keys.ParsePublicKey(body.Pubkey); err != nil {
			return wrapError(KindSchema, "WL-VAL-041", "invalid pubkey in bridge manifest", err)
		}
	}
	return validatePaths(body.Paths, "WL-VAL-042", true)
}

func validatePaths(paths []string, ruleID string, required bool) error {
	if required && len(paths) == 0 {
		return newError(KindSchema, ruleID, "manifest has no paths")
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return newError(KindSchema, ruleID, "path must be absolute: "+p)
		}
	}
	return nil
}
