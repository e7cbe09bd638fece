package identity

import "encoding/binary"

var adjectives = []string{
	"Amber", "Bold", "Brave", "Bright", "Calm", "Clever", "Cosmic", "Crimson",
	"Curious", "Daring", "Eager", "Electric", "Fancy", "Fierce", "Gentle", "Golden",
	"Happy", "Hidden", "Icy", "Jolly", "Lucky", "Lunar", "Mellow", "Misty",
	"Noble", "Quiet", "Rapid", "Silent", "Silver", "Swift", "Velvet", "Wild",
}

var nouns = []string{
	"Badger", "Bear", "Beaver", "Crane", "Dolphin", "Eagle", "Falcon", "Ferret",
	"Fox", "Gecko", "Heron", "Ibis", "Jackal", "Koala", "Lemur", "Lynx",
	"Marten", "Moose", "Newt", "Otter", "Owl", "Panda", "Puffin", "Quokka",
	"Raven", "Salmon", "Seal", "Tiger", "Turtle", "Walrus", "Wolf", "Yak",
}

// Pseudonym returns the default display name for a principal. The name is a
// pure function of the principal bytes.
func Pseudonym(p Principal) string {
	if len(p) < 4 {
		return adjectives[0] + " " + nouns[0]
	}
	n := binary.BigEndian.Uint32(p[:4])
	return adjectives[n%uint32(len(adjectives))] + " " + nouns[(n/uint32(len(adjectives)))%uint32(len(nouns))]
}
