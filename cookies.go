package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// CookieRecord is one persisted cookie. Records are keyed by (domain, name);
// everything else is carried along so a restored session is indistinguishable
// from the one that was captured.
type CookieRecord struct {
	Name     string `yaml:"name" json:"name"`
	Domain   string `yaml:"domain" json:"domain"`
	Value    string `yaml:"value" json:"value"`
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`
	Expires  int64  `yaml:"expires,omitempty" json:"expires,omitempty"`
	Secure   bool   `yaml:"secure,omitempty" json:"secure,omitempty"`
	HTTPOnly bool   `yaml:"http_only,omitempty" json:"http_only,omitempty"`
}

// CookieSet maps "domain/name" to the record for it. Insertion order is
// irrelevant; the composite key keeps the set free of duplicates.
type CookieSet map[string]CookieRecord

func cookieKey(domain, name string) string {
	return domain + "/" + name
}

// Put inserts or replaces the record under its composite key.
func (s CookieSet) Put(record CookieRecord) {
	s[cookieKey(record.Domain, record.Name)] = record
}

// Merge copies every record of other into s, replacing on key collision.
func (s CookieSet) Merge(other CookieSet) {
	for _, record := range other {
		s.Put(record)
	}
}

// Params converts the set into the form a live session accepts.
func (s CookieSet) Params() []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(s))
	for _, record := range s {
		param := &proto.NetworkCookieParam{
			Name:     record.Name,
			Value:    record.Value,
			Domain:   record.Domain,
			Path:     record.Path,
			Secure:   record.Secure,
			HTTPOnly: record.HTTPOnly,
		}
		if record.Expires > 0 {
			param.Expires = proto.TimeSinceEpoch(record.Expires)
		}
		params = append(params, param)
	}
	return params
}

// SetFromLiveCookies snapshots the browser's current cookies into a CookieSet.
func SetFromLiveCookies(cookies []*proto.NetworkCookie) CookieSet {
	set := make(CookieSet, len(cookies))
	for _, cookie := range cookies {
		record := CookieRecord{
			Name:     cookie.Name,
			Domain:   cookie.Domain,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HTTPOnly,
		}
		if cookie.Expires > 0 {
			record.Expires = int64(cookie.Expires)
		}
		set.Put(record)
	}
	return set
}

// CookieStore persists one jar file per identity under dir.
type CookieStore struct {
	dir string
}

func NewCookieStore(dir string) *CookieStore {
	return &CookieStore{dir: dir}
}

func (cs *CookieStore) jarPath(identity string) string {
	return filepath.Join(cs.dir, sanitizeIdentity(identity)+".yaml")
}

// Load reads the persisted jar for identity. A missing jar is an empty set,
// not an error: first runs start from a clean session.
func (cs *CookieStore) Load(identity string) (CookieSet, error) {
	data, err := os.ReadFile(cs.jarPath(identity))
	if os.IsNotExist(err) {
		return CookieSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie jar for %s: %w", identity, err)
	}

	var records []CookieRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse cookie jar for %s: %w", identity, err)
	}

	set := make(CookieSet, len(records))
	for _, record := range records {
		set.Put(record)
	}
	return set, nil
}

// Save overwrites the persisted jar for identity with set.
func (cs *CookieStore) Save(identity string, set CookieSet) error {
	if err := os.MkdirAll(cs.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cookie dir: %w", err)
	}

	records := make([]CookieRecord, 0, len(set))
	for _, record := range set {
		records = append(records, record)
	}

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal cookie jar for %s: %w", identity, err)
	}

	return os.WriteFile(cs.jarPath(identity), data, 0600)
}

func sanitizeIdentity(identity string) string {
	replacer := strings.NewReplacer("@", "_at_", "/", "_", "\\", "_", ":", "_")
	return replacer.Replace(identity)
}

// CookieBridge converts the persisted jar into browser-session cookies at
// attempt start and captures the live set back at attempt end.
type CookieBridge struct {
	store        *CookieStore
	auxCookieURL string
	client       *http.Client
	log          *logrus.Entry
}

func NewCookieBridge(store *CookieStore, auxCookieURL string, log *logrus.Entry) *CookieBridge {
	return &CookieBridge{
		store:        store,
		auxCookieURL: auxCookieURL,
		client:       &http.Client{Timeout: 15 * time.Second},
		log:          log,
	}
}

// Seed loads the jar for identity and merges in the auxiliary cookies the
// challenge provider hands out. Jar I/O failures propagate; the auxiliary
// fetch is best effort and only logged.
func (b *CookieBridge) Seed(identity string) (CookieSet, error) {
	set, err := b.store.Load(identity)
	if err != nil {
		return nil, err
	}

	aux, err := b.fetchAuxCookies()
	if err != nil {
		b.log.WithError(err).Warn("Skipping challenge-provider cookies")
	} else if len(aux) > 0 {
		set.Merge(aux)
		b.log.WithField("count", len(aux)).Debug("Merged challenge-provider cookies")
	}

	return set, nil
}

// Capture overwrites the persisted jar for identity with the full current
// live cookie set. Last writer wins; no merging with the previous jar.
func (b *CookieBridge) Capture(identity string, live []*proto.NetworkCookie) error {
	set := SetFromLiveCookies(live)
	if err := b.store.Save(identity, set); err != nil {
		return err
	}
	b.log.WithField("count", len(set)).Info("Captured session cookies")
	return nil
}

func (b *CookieBridge) fetchAuxCookies() (CookieSet, error) {
	if b.auxCookieURL == "" {
		return nil, nil
	}

	resp, err := b.client.Get(b.auxCookieURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch auxiliary cookies: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auxiliary cookie endpoint returned HTTP %d", resp.StatusCode)
	}

	var records []CookieRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode auxiliary cookies: %w", err)
	}

	set := make(CookieSet, len(records))
	for _, record := range records {
		set.Put(record)
	}
	return set, nil
}
