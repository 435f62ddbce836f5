// Package config loads the three-file MARP configuration cascade —
// marp.conf, each host's include file, and the names file — with
// gopkg.in/ini.v1, and builds the in-memory authoritative store and
// protocol-label table from them. Grounded on data/local.c's
// hostHandler/nameHandler INI callbacks.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/ethgordon/marp/internal/cryptoutil"
	"github.com/ethgordon/marp/internal/keys"
	"github.com/ethgordon/marp/internal/store"
)

const defaultHostTTL = 3600

// ProtocolTable maps between a names-file label and its numeric id.
type ProtocolTable struct {
	toID    map[string]uint8
	toLabel map[uint8]string
}

// ID looks up the numeric protocol id for label.
func (t *ProtocolTable) ID(label string) (uint8, bool) {
	id, ok := t.toID[label]
	return id, ok
}

// Label looks up the human label for a numeric protocol id.
func (t *ProtocolTable) Label(id uint8) (string, bool) {
	label, ok := t.toLabel[id]
	return label, ok
}

// LoadNames parses a names-file's [name] section: `<label> = <id>`.
func LoadNames(path string) (*ProtocolTable, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading names file %s: %w", path, err)
	}
	t := &ProtocolTable{toID: make(map[string]uint8), toLabel: make(map[uint8]string)}

	section := cfg.Section("name")
	for _, key := range section.Keys() {
		id, err := key.Uint()
		if err != nil {
			return nil, fmt.Errorf("config: names file %s: label %q: %w", path, key.Name(), err)
		}
		if id < 1 || id > 254 {
			return nil, fmt.Errorf("config: names file %s: label %q has id %d out of range [1,254]", path, key.Name(), id)
		}
		t.toID[key.Name()] = uint8(id)
		t.toLabel[uint8(id)] = key.Name()
	}
	return t, nil
}

// LoadHostFile parses a single host's include file: a [global] TTL
// default, then one section per handle, `<protocol-label> = <plaintext
// address>` plus an optional per-section TTL override. Every address
// is encrypted under the single hash of "<handle>@<host>" and inserted
// into authStore under its double hash.
func LoadHostFile(path, host string, protocols *ProtocolTable, authStore *store.Authoritative) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("config: loading host file %s: %w", path, err)
	}

	hostTTL := defaultHostTTL
	if g, err := cfg.GetSection("global"); err == nil {
		hostTTL = g.Key("TTL").MustInt(defaultHostTTL)
	}

	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection || name == "global" {
			continue
		}
		handle := name
		sectionTTL := section.Key("TTL").MustInt(hostTTL)

		for _, key := range section.Keys() {
			if key.Name() == "TTL" {
				continue
			}
			protocolID, ok := protocols.ID(key.Name())
			if !ok {
				return fmt.Errorf("config: host file %s: handle %q uses unknown protocol label %q", path, handle, key.Name())
			}

			inner, outer := cryptoutil.HashTwice(handle + "@" + host)
			encrypted, err := cryptoutil.Encrypt(inner, []byte(key.Value()))
			if err != nil {
				return fmt.Errorf("config: host file %s: encrypting %s/%s: %w", path, handle, key.Name(), err)
			}
			authStore.Insert(outer, uint16(protocolID), encrypted, uint16(sectionTTL))
		}
	}
	return nil
}

// MarpConf is the parsed top-level marp.conf: where the private key
// and names file live, and which include file backs each host.
type MarpConf struct {
	PrivkeyPath string
	NamesPath   string
	Hosts       map[string]string // host -> include file path
}

// LoadMarpConf parses marp.conf's [global] section plus one section
// per authoritative host.
func LoadMarpConf(path string) (*MarpConf, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	mc := &MarpConf{Hosts: make(map[string]string)}

	global, err := cfg.GetSection("global")
	if err != nil {
		return nil, fmt.Errorf("config: %s: missing [global] section: %w", path, err)
	}
	mc.PrivkeyPath = global.Key("privkey").String()
	mc.NamesPath = global.Key("names").String()
	if mc.PrivkeyPath == "" || mc.NamesPath == "" {
		return nil, fmt.Errorf("config: %s: [global] must set both privkey and names", path)
	}

	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection || name == "global" {
			continue
		}
		include := section.Key("include").String()
		if include == "" {
			return nil, fmt.Errorf("config: %s: host section %q missing include=", path, name)
		}
		mc.Hosts[name] = include
	}
	return mc, nil
}

// Loaded bundles everything LoadAll produces.
type Loaded struct {
	KeyPair   *keys.KeyPair
	Protocols *ProtocolTable
	Store     *store.Authoritative
}

// LoadAll runs the full marp.conf -> host files -> names file cascade
// and returns a ready-to-serve authoritative store.
func LoadAll(marpConfPath string) (*Loaded, error) {
	mc, err := LoadMarpConf(marpConfPath)
	if err != nil {
		return nil, err
	}

	kp, err := keys.LoadOrGenerate(mc.PrivkeyPath)
	if err != nil {
		return nil, fmt.Errorf("config: loading keypair: %w", err)
	}

	protocols, err := LoadNames(mc.NamesPath)
	if err != nil {
		return nil, err
	}

	authStore := store.New(kp)
	for host, includePath := range mc.Hosts {
		if err := LoadHostFile(includePath, host, protocols, authStore); err != nil {
			return nil, err
		}
	}

	return &Loaded{KeyPair: kp, Protocols: protocols, Store: authStore}, nil
}
