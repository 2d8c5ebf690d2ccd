package relay

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "dolphin", "narwhal", "beaver",
}

var dishes = []string{
	"pancake", "waffle", "sushi", "ramen", "curry", "taco", "biryani", "paella", "risotto", "dumpling",
	"noodle", "omelette", "kebab", "falafel", "samosa", "gnocchi", "pierogi", "fondue", "poutine", "dimsum",
}

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "jolly", "cozy", "shiny", "golden",
	"silver", "crimson", "emerald", "brave", "calm", "swift", "silent", "bouncy", "merry", "peppy",
}

var things = []string{
	"comet", "orbit", "nebula", "canyon", "ridge", "lantern", "pebble", "rocket", "meadow", "willow",
	"ember", "maple", "breeze", "marble", "thimble", "button", "puddle", "cottage", "sprout", "glimmer",
}

// NewRoomName returns a memorable adjective-animal-dish-thing room id.
// taken, when non-nil, rejects names already in use.
func NewRoomName(taken func(string) bool) string {
	for {
		name := fmt.Sprintf("%s-%s-%s-%s",
			pick(adjectives), pick(animals), pick(dishes), pick(things))
		if taken == nil || !taken(name) {
			return name
		}
	}
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		panic(fmt.Sprintf("room name: %v", err))
	}
	return words[n.Int64()]
}
