package util

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode/utf8"
)

// maxDeviceNameLen is the longest name in bytes, the DNS label limit.
const maxDeviceNameLen = 63

var deviceWords = []string{
	"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf", "Hotel", "India", "Juliett",
	"Kilo", "Lima", "Mike", "November", "Oscar", "Papa", "Quebec", "Romeo", "Sierra", "Tango",
	"Uniform", "Victor", "Whiskey", "Yankee", "Zulu", "Red", "Blue", "Green", "Gold", "Silver",
	"Ruby", "Sapphire", "Emerald", "Topaz", "Garnet", "Jade", "Opal", "Falcon", "Heron", "Kestrel",
	"Otter", "Badger", "Lynx", "Marten", "Raven", "Fjord", "Glacier", "Tundra", "Harbor", "Beacon",
}

// GenerateDeviceName returns a random name the other side of the link can
// recognise, such as "Kestrel-4821".
func GenerateDeviceName() string {
	word := deviceWords[rand.IntN(len(deviceWords))]
	return fmt.Sprintf("%s-%04d", word, rand.IntN(10000))
}

// SanitizeDeviceName trims a user supplied name to something safe to
// advertise in discovery records. Empty input yields a generated name.
func SanitizeDeviceName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '\\' || r == '"':
			return '-'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if len(name) > maxDeviceNameLen {
		cut := maxDeviceNameLen
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	if name == "" {
		return GenerateDeviceName()
	}
	return name
}
