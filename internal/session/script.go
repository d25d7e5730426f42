package session

import "math/rand/v2"

var greetings = []string{
	"Good morning. My name is Alex and I'll be your examiner today. Can you tell me your full name, please?",
	"Hello, and welcome to the speaking test. Could you start by telling me your full name?",
	"Good afternoon. Thank you for coming. First, may I have your full name, please?",
}

var partInstructions = map[int]string{
	1: "In Part 1, I'll ask you some questions about yourself and familiar topics. Short, direct answers of around 20 to 30 seconds are fine.",
	2: "In Part 2, I'll give you a topic. Take a minute to think about it, then speak for one to two minutes. I'll let you know when to begin.",
	3: "In Part 3, we'll discuss some broader questions connected to the Part 2 topic. Try to give longer, more developed answers.",
}

// Greeting picks an opening line. pick defaults to math/rand.
func Greeting(pick func(n int) int) string {
	if pick == nil {
		pick = rand.IntN
	}
	return greetings[pick(len(greetings))]
}

// Instruction returns the scripted introduction for part.
func Instruction(part int) string {
	if text, ok := partInstructions[part]; ok {
		return text
	}
	return partInstructions[FirstPart]
}
