package peers

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const jsonContactsPath = "contacts.json"

// ErrNoContactsAvailable is returned when resolving against an empty
// contacts file.
var ErrNoContactsAvailable = errors.New("no contacts available")

// SectionContact is what a node needs to reach a section: its prefix, its
// current section key and the addresses of its elders.
type SectionContact struct {
	Prefix     Prefix  `json:"prefix"`
	SectionKey string  `json:"section_key"`
	Generation uint64  `json:"generation"`
	Elders     []*Peer `json:"elders"`
}

// NetworkContacts is the content of a contacts file.
type NetworkContacts struct {
	GenesisKey string           `json:"genesis_key"`
	Sections   []SectionContact `json:"sections"`
}

// Closest returns the section whose prefix shares the longest run of leading
// bits with name. A prefix that fully matches wins over one that only
// partially matches; remaining ties go to the longer, then the lexically
// smaller, prefix.
func (c *NetworkContacts) Closest(name Name) (SectionContact, error) {
	if c == nil || len(c.Sections) == 0 {
		return SectionContact{}, ErrNoContactsAvailable
	}

	best := -1
	bestLen := -1
	bestFull := false

	for i, s := range c.Sections {
		l := s.Prefix.CommonPrefixLen(name)
		full := l == s.Prefix.BitCount()

		better := false
		switch {
		case best < 0:
			better = true
		case full != bestFull:
			better = full
		case l != bestLen:
			better = l > bestLen
		case s.Prefix.BitCount() != c.Sections[best].Prefix.BitCount():
			better = s.Prefix.BitCount() > c.Sections[best].Prefix.BitCount()
		default:
			better = s.Prefix < c.Sections[best].Prefix
		}

		if better {
			best, bestLen, bestFull = i, l, full
		}
	}

	return c.Sections[best], nil
}

// Upsert replaces the entry for contact's prefix when contact is newer, or
// adds it.
func (c *NetworkContacts) Upsert(contact SectionContact) {
	for i, s := range c.Sections {
		if s.Prefix == contact.Prefix {
			if contact.Generation >= s.Generation {
				c.Sections[i] = contact
			}
			return
		}
	}
	c.Sections = append(c.Sections, contact)
	sort.Slice(c.Sections, func(i, j int) bool {
		return c.Sections[i].Prefix < c.Sections[j].Prefix
	})
}

// JSONContacts persists NetworkContacts in a JSON file.
type JSONContacts struct {
	l    sync.Mutex
	path string
}

// NewJSONContacts creates a new JSONContacts with reference to a base
// directory where the JSON file resides.
func NewJSONContacts(base string) *JSONContacts {
	return &JSONContacts{
		path: filepath.Join(base, jsonContactsPath),
	}
}

// Path of the underlying file.
func (j *JSONContacts) Path() string {
	return j.path
}

// Contacts parses the underlying JSON file.
func (j *JSONContacts) Contacts() (*NetworkContacts, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := os.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	contacts := new(NetworkContacts)
	if len(buf) == 0 {
		return contacts, nil
	}

	if err := json.NewDecoder(bytes.NewReader(buf)).Decode(contacts); err != nil {
		return nil, err
	}

	cleanseContacts(contacts)

	return contacts, nil
}

// cleanseContacts standardises the public key strings to the form derived from
// a private key.
func cleanseContacts(c *NetworkContacts) {
	for _, s := range c.Sections {
		for _, peer := range s.Elders {
			peer.PubKeyHex = "0X" + strings.TrimPrefix(strings.ToUpper(peer.PubKeyHex), "0X")
		}
	}
}

// Write persists contacts.
func (j *JSONContacts) Write(contacts *NetworkContacts) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(contacts); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0700); err != nil {
		return err
	}

	return os.WriteFile(j.path, buf.Bytes(), 0644)
}
