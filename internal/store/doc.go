// Package store provides persistent storage for users, conversations and messages.
//
// # Backends
//
// Store is implemented by:
//
//   - SQLiteStore: default backend on modernc.org/sqlite (pure Go, WAL mode)
//   - MongoStore: MongoDB backend for deployments that already run Mongo
//   - MockStore: in-memory backend used by tests
//
// # Conversation Uniqueness
//
// At most one Conversation exists per unordered participant pair. Every
// backend keys conversations by PairKey(a, b), which sorts the two ids, and
// enforces it with a unique index. CreateConversation reports a collision as
// ErrDuplicateConversation; callers resolve it by fetching the winner with
// GetConversationByPair.
//
// # Ordering
//
// Messages get a store-wide increasing Seq on append. ListMessages returns
// them by Seq, which is append order. A conversation's LastSeq is the Seq of
// its newest message, and ListConversationsFor sorts by it so the most
// recently active conversation comes first.
//
// # Seen Flags
//
// MarkSeen(conversationID, authorID) flips seen on the unseen messages
// written by authorID. The viewer passes the other participant as authorID.
package store
