// Package slug generates readable subdomain labels such as brave-tiger-42.
package slug

import (
	"fmt"
	"math/rand/v2"
	"regexp"
)

var adjectives = []string{
	"able", "amber", "ancient", "bold", "brave", "breezy", "bright", "brisk",
	"calm", "clever", "cosmic", "crisp", "curious", "dapper", "daring", "eager",
	"electric", "fancy", "fierce", "gentle", "glad", "golden", "grand", "happy",
	"hidden", "humble", "icy", "jolly", "keen", "kind", "lively", "lucky",
	"mellow", "mighty", "misty", "noble", "odd", "plucky", "polite", "proud",
	"quick", "quiet", "rapid", "rustic", "shiny", "silent", "sleek", "smooth",
	"snowy", "solid", "spicy", "steady", "sunny", "swift", "tidy", "vivid",
	"warm", "wild", "wise", "witty", "young", "zany", "zesty", "zen",
}

var nouns = []string{
	"badger", "bear", "beacon", "bison", "canyon", "cedar", "comet", "coral",
	"crane", "delta", "dune", "eagle", "ember", "falcon", "fern", "fjord",
	"fox", "glacier", "grove", "harbor", "hawk", "heron", "island", "jaguar",
	"koala", "lagoon", "lark", "lemur", "lynx", "maple", "meadow", "meteor",
	"moose", "nebula", "oasis", "orca", "otter", "panda", "panther", "pebble",
	"pine", "planet", "puffin", "quartz", "raven", "reef", "river", "robin",
	"sparrow", "summit", "tiger", "tundra", "valley", "walrus", "willow", "wolf",
	"yak", "zebra", "birch", "cobalt", "dolphin", "orchid", "prairie", "spruce",
}

var pattern = regexp.MustCompile(`^[a-z]+-[a-z]+-[0-9]{2}$`)

// Generator yields candidate subdomain labels.
type Generator interface {
	Next() string
}

// Random draws adjective-noun-NN labels from a pseudo-random source.
type Random struct{}

// Next returns a fresh label. Uniqueness is enforced by the store, not here.
func (Random) Next() string {
	return fmt.Sprintf("%s-%s-%02d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		rand.IntN(100),
	)
}

// Valid reports whether value has the generated label shape.
func Valid(value string) bool {
	return pattern.MatchString(value)
}
