package conversation

import (
	"fmt"
	"math/rand"
	"sync"
)

var greetingTemplates = []string{
	"Hello%s! How are you doing today?",
	"Hi there%s! What's on your mind?",
	"Good to see you%s! How can I help?",
	"Welcome back%s! How are you feeling?",
	"Hello%s! Ready for a chat?",
}

const continuingPhrase = "Let's continue our conversation ..."

// Greeter holds the process-wide greeting state: the first conversation of a
// process gets a random greeting, later ones a continuing phrase. The flag
// resets only on process restart.
type Greeter struct {
	mu      sync.Mutex
	greeted bool
	pick    func(n int) int
}

func NewGreeter() *Greeter {
	return &Greeter{pick: rand.Intn}
}

// Greeting returns the opening phrase for a new conversation. name, when
// non-empty, is spliced into first-time greetings.
func (g *Greeter) Greeting(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.greeted {
		return continuingPhrase
	}
	g.greeted = true

	suffix := ""
	if name != "" {
		suffix = " " + name
	}
	tmpl := greetingTemplates[g.pick(len(greetingTemplates))]
	return fmt.Sprintf(tmpl, suffix)
}
