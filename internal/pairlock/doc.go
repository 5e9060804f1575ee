// Package pairlock provides advisory locks keyed by a participant pair.
//
// The conversation service takes the lock for PairKey(a, b) while it looks
// up or creates the pair's conversation, which keeps concurrent senders from
// racing to insert. Correctness does not depend on the lock: the store's
// unique pair index still rejects a second conversation. A lock that cannot be
// acquired in time is logged and the call proceeds on the store guarantee.
//
// Use MemoryLocker for a single process and RedisLocker when several gateway
// processes share a database.
package pairlock
