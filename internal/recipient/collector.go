package recipient

import "sync"

// Collector tracks the numbers a user has entered, in insertion order,
// suppressing duplicates. It mirrors the web page's number box.
type Collector struct {
	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

func NewCollector() *Collector {
	return &Collector{seen: map[string]struct{}{}}
}

// Add records a typed number. It reports whether the number was new;
// input that is not exactly ten digits is ignored.
func (c *Collector) Add(number string) bool {
	if !Valid(number) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(number)
}

// AddText records every 10-digit number embedded in a pasted block and
// returns the ones that were new, in the order found.
func (c *Collector) AddText(text string) []string {
	found := Extract(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	added := make([]string, 0, len(found))
	for _, n := range found {
		if c.addLocked(n) {
			added = append(added, n)
		}
	}
	return added
}

// AddAll records numbers produced by an import and returns the new ones.
func (c *Collector) AddAll(numbers []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if Valid(n) && c.addLocked(n) {
			added = append(added, n)
		}
	}
	return added
}

func (c *Collector) addLocked(number string) bool {
	if _, ok := c.seen[number]; ok {
		return false
	}
	c.seen[number] = struct{}{}
	c.order = append(c.order, number)
	return true
}

func (c *Collector) Remove(number string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[number]; !ok {
		return false
	}
	delete(c.seen, number)
	for i, n := range c.order {
		if n == number {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *Collector) Clear() {
	c.mu.Lock()
	c.order = nil
	c.seen = map[string]struct{}{}
	c.mu.Unlock()
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Numbers returns a copy of the tracked numbers in insertion order.
func (c *Collector) Numbers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}
