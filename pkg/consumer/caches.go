package consumer

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/tanelpoder/xcapture-go/pkg/xcapture"
)

// usernameCacheSize is a direct-mapped passwd cache: a fixed 256-bucket
// array indexed by uid%256, where a collision simply overwrites the
// previous occupant (both uids still resolve correctly on their next
// cache-filling lookup, just not from the stale cached copy).
const usernameCacheSize = 256

type usernameCache struct {
	mu      sync.Mutex
	buckets [usernameCacheSize]struct {
		uid  int
		name string
		set  bool
	}
	loaded bool
	byUID  map[int]string
}

func newUsernameCache() *usernameCache {
	return &usernameCache{byUID: make(map[int]string)}
}

// Lookup returns the username for uid, loading /etc/passwd once on first
// use and thereafter serving from the direct-mapped bucket array.
func (c *usernameCache) Lookup(uid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := uid % usernameCacheSize
	if c.buckets[idx].set && c.buckets[idx].uid == uid {
		return c.buckets[idx].name
	}

	if !c.loaded {
		c.load()
		c.loaded = true
	}
	name, ok := c.byUID[uid]
	if !ok {
		name = strconv.Itoa(uid)
	}
	c.buckets[idx] = struct {
		uid  int
		name string
		set  bool
	}{uid, name, true}
	return name
}

func (c *usernameCache) load() {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		c.byUID[uid] = fields[0]
	}
}

// cgroupPathCache resolves a numeric cgroup id to the path it was first
// observed at. Unlike the direct-mapped username cache, cgroup ids span a
// much wider range with no natural small modulus, so this one is a plain Go
// map: amortized O(1) lookup without hand-rolling a bucket/chain scheme.
type cgroupPathCache struct {
	mu   sync.Mutex
	byID map[uint64]string
}

func newCgroupPathCache() *cgroupPathCache {
	return &cgroupPathCache{byID: make(map[uint64]string)}
}

func (c *cgroupPathCache) Resolve(id uint64, path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byID[id]; ok {
		return existing
	}
	if path == "" {
		path = "-"
	}
	c.byID[id] = path
	return path
}

func (c *cgroupPathCache) Snapshot() map[uint64]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint64]string, len(c.byID))
	for k, v := range c.byID {
		out[k] = v
	}
	return out
}

// stackCacheKey keys the symbolized-stack cache by (hash, kind), since the
// kernel- and user-stack hash spaces are independent.
type stackCacheKey struct {
	hash uint64
	kind xcapture.StackKind
}

// stackSymbolCache stores the symbolized rendering of a StackTrace once
// computed, so a stack seen again (same hash, same kind) never pays for
// symbolization twice.
type stackSymbolCache struct {
	mu  sync.Mutex
	m   map[stackCacheKey]string
}

func newStackSymbolCache() *stackSymbolCache {
	return &stackSymbolCache{m: make(map[stackCacheKey]string)}
}

func (c *stackSymbolCache) Get(hash uint64, kind xcapture.StackKind) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[stackCacheKey{hash, kind}]
	return v, ok
}

func (c *stackSymbolCache) Set(hash uint64, kind xcapture.StackKind, symbolized string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[stackCacheKey{hash, kind}] = symbolized
}
