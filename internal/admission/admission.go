// ABOUTME: Connection admission control against a concurrency ceiling
// ABOUTME: Tracks open connection ids for a single worker

package admission

// DefaultCeiling is the number of connections a worker tracks by default.
const DefaultCeiling = 10240

// Controller decides whether a connection may be dispatched. It is owned
// by one worker and is not safe for concurrent use.
type Controller struct {
	ceiling int
	tracked map[string]struct{}
}

// New creates a controller. A non-positive ceiling uses DefaultCeiling.
func New(ceiling int) *Controller {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Controller{ceiling: ceiling, tracked: make(map[string]struct{})}
}

// Admit accepts ids already tracked, and new ids while below the ceiling.
func (c *Controller) Admit(id string) bool {
	if _, ok := c.tracked[id]; ok {
		return true
	}
	if len(c.tracked) >= c.ceiling {
		return false
	}
	c.tracked[id] = struct{}{}
	return true
}

// Release forgets id. Unknown ids are ignored.
func (c *Controller) Release(id string) {
	delete(c.tracked, id)
}

func (c *Controller) Tracked(id string) bool {
	_, ok := c.tracked[id]
	return ok
}

func (c *Controller) Len() int     { return len(c.tracked) }
func (c *Controller) Ceiling() int { return c.ceiling }
