// File: internal/graph/settings.go
// Brief: Per-kind node settings and their digests.

package graph

import (
	_ "crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Settings is the per-kind payload of a node. The set of implementations is
// closed; each kind has exactly one settings type.
type Settings interface {
	settingsKind() Kind
}

type FileSettings struct{}

type DirectoryListingSettings struct {
	Path      string   `json:"path"`
	Patterns  []string `json:"patterns,omitempty"`
	Excludes  []string `json:"excludes,omitempty"`
	Recursive bool     `json:"recursive,omitempty"`
}

type CompilerSettings struct {
	// Executable defaults to the node name when empty.
	Executable string `json:"executable,omitempty"`
}

type ObjectSettings struct {
	// Command is a template: %1 inputs, %2 output, %3 depfile.
	Command string `json:"command,omitempty"`
	DepFile string `json:"depFile,omitempty"`
}

type ObjectListSettings struct{}

type LibrarySettings struct {
	// Librarian is used when the library has no Compiler dependency.
	Librarian string `json:"librarian,omitempty"`
	Command   string `json:"command,omitempty"`
}

func (FileSettings) settingsKind() Kind             { return KindFile }
func (DirectoryListingSettings) settingsKind() Kind { return KindDirectoryListing }
func (CompilerSettings) settingsKind() Kind         { return KindCompiler }
func (ObjectSettings) settingsKind() Kind           { return KindObject }
func (ObjectListSettings) settingsKind() Kind       { return KindObjectList }
func (LibrarySettings) settingsKind() Kind          { return KindLibrary }

// DefaultSettings returns the zero settings value for k.
func DefaultSettings(k Kind) Settings {
	switch k {
	case KindFile:
		return FileSettings{}
	case KindDirectoryListing:
		return DirectoryListingSettings{}
	case KindCompiler:
		return CompilerSettings{}
	case KindObject:
		return ObjectSettings{}
	case KindObjectList:
		return ObjectListSettings{}
	case KindLibrary:
		return LibrarySettings{}
	default:
		return nil
	}
}

func normalizeSettings(k Kind, s Settings) (Settings, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid node kind %d", uint8(k))
	}
	if s == nil {
		return DefaultSettings(k), nil
	}
	if s.settingsKind() != k {
		return nil, fmt.Errorf("settings %T do not belong to kind %s", s, k)
	}
	return s, nil
}

func MarshalSettings(s Settings) ([]byte, error) {
	return json.Marshal(s)
}

func UnmarshalSettings(k Kind, data []byte) (Settings, error) {
	if len(data) == 0 {
		return normalizeSettings(k, nil)
	}
	var (
		out Settings
		err error
	)
	switch k {
	case KindFile:
		var v FileSettings
		err = json.Unmarshal(data, &v)
		out = v
	case KindDirectoryListing:
		var v DirectoryListingSettings
		err = json.Unmarshal(data, &v)
		out = v
	case KindCompiler:
		var v CompilerSettings
		err = json.Unmarshal(data, &v)
		out = v
	case KindObject:
		var v ObjectSettings
		err = json.Unmarshal(data, &v)
		out = v
	case KindObjectList:
		var v ObjectListSettings
		err = json.Unmarshal(data, &v)
		out = v
	case KindLibrary:
		var v LibrarySettings
		err = json.Unmarshal(data, &v)
		out = v
	default:
		return nil, fmt.Errorf("invalid node kind %d", uint8(k))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s settings: %w", k, err)
	}
	return out, nil
}

// SettingsDigest fingerprints everything about a node's declaration that
// affects its outputs apart from its dependencies.
func SettingsDigest(k Kind, s Settings, outputs []string) digest.Digest {
	payload := struct {
		Kind     string   `json:"kind"`
		Settings Settings `json:"settings"`
		Outputs  []string `json:"outputs,omitempty"`
	}{Kind: k.String(), Settings: s, Outputs: outputs}
	raw, err := json.Marshal(payload)
	if err != nil {
		// Settings are plain data; this only fires on programmer error.
		panic(fmt.Sprintf("marshal settings for %s: %v", k, err))
	}
	return digest.FromBytes(raw)
}
