package memory

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture is the YAML document LoadFixture reads.
//
//	sets:
//	  services: [s1, s2]
//	hashes:
//	  s1: {name: web, value: "3"}
type Fixture struct {
	Sets    map[string][]string          `yaml:"sets"`
	Lists   map[string][]string          `yaml:"lists"`
	ZSets   map[string][]FixtureMember   `yaml:"zsets"`
	Hashes  map[string]map[string]string `yaml:"hashes"`
	Strings map[string]string            `yaml:"strings"`
}

// FixtureMember is one scored member of a sorted set.
type FixtureMember struct {
	Member string  `yaml:"member"`
	Score  float64 `yaml:"score"`
}

// LoadFixture decodes a fixture from r and applies it to s.
func (s *Store) LoadFixture(r io.Reader) error {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && err != io.EOF {
		return fmt.Errorf("decode fixture: %w", err)
	}
	s.Apply(fx)
	return nil
}

// LoadFixtureFile reads a fixture from path.
func (s *Store) LoadFixtureFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return s.LoadFixture(f)
}

// Apply writes every key of fx into s.
func (s *Store) Apply(fx Fixture) {
	for k, members := range fx.Sets {
		s.SAdd(k, members...)
	}
	for k, values := range fx.Lists {
		s.RPush(k, values...)
	}
	for k, members := range fx.ZSets {
		for _, m := range members {
			s.ZAdd(k, m.Score, m.Member)
		}
	}
	for k, fields := range fx.Hashes {
		s.HSet(k, fields)
	}
	for k, v := range fx.Strings {
		s.Set(k, v)
	}
}
