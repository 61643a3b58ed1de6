package codegen

// cleanupEntry is a resource that must be released on every exit from the
// frame that created it.
type cleanupEntry struct {
	name     string
	release  func()
	released bool
}

// cleanupStack tracks live resources per lexical frame. Normal frame exit
// releases that frame's entries; an early return releases every live
// entry in every frame.
type cleanupStack struct {
	frames [][]*cleanupEntry
}

func (c *cleanupStack) pushFrame() {
	c.frames = append(c.frames, nil)
}

// popFrame emits the release of the innermost frame's unreleased entries,
// newest first, and discards the frame.
func (c *cleanupStack) popFrame() {
	if len(c.frames) == 0 {
		fail(ErrScopeImbalance, "cleanup", "", "pop of empty cleanup stack")
	}
	top := c.frames[len(c.frames)-1]
	for i := len(top) - 1; i >= 0; i-- {
		if e := top[i]; !e.released {
			e.release()
			e.released = true
		}
	}
	c.frames = c.frames[:len(c.frames)-1]
}

func (c *cleanupStack) add(name string, release func()) *cleanupEntry {
	if len(c.frames) == 0 {
		fail(ErrInternal, "cleanup", name, "cleanup entry outside any frame")
	}
	e := &cleanupEntry{name: name, release: release}
	c.frames[len(c.frames)-1] = append(c.frames[len(c.frames)-1], e)
	return e
}

// unwind emits the release of every live entry, innermost first, for a
// return path. Entries stay live for the fall-through path.
func (c *cleanupStack) unwind() {
	for f := len(c.frames) - 1; f >= 0; f-- {
		frame := c.frames[f]
		for i := len(frame) - 1; i >= 0; i-- {
			if !frame[i].released {
				frame[i].release()
			}
		}
	}
}

func (c *cleanupStack) depth() int { return len(c.frames) }
