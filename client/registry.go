package client

import "sync"

// Connect returns the process-wide client for serverURL, dialing it on first
// use. Construction is idempotent per process: repeated Connect calls for the
// same URL share one connection, and the connection is released when the last
// owner calls Close.
func Connect(serverURL string, opts Options) (*Client, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if entry, ok := registry[serverURL]; ok {
		entry.refs++
		if opts.Token != "" {
			entry.client.SetAuth(opts.Token)
		}
		return entry.client, nil
	}

	c, err := New(serverURL, opts)
	if err != nil {
		return nil, err
	}
	if err := c.Dial(); err != nil {
		return nil, err
	}
	c.registryKey = serverURL
	registry[serverURL] = &sharedEntry{client: c, refs: 1}
	return c, nil
}

type sharedEntry struct {
	client *Client
	refs   int
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*sharedEntry)
)

// releaseShared decrements the refcount for key and reports whether the
// caller should actually tear the connection down.
func releaseShared(key string) bool {
	registryMu.Lock()
	defer registryMu.Unlock()

	entry, ok := registry[key]
	if !ok {
		// Already torn down; let Close be idempotent.
		return false
	}
	entry.refs--
	if entry.refs > 0 {
		return false
	}
	delete(registry, key)
	return true
}
