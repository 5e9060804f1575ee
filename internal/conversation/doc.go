// Package conversation is the gateway between session handlers and the store
// for everything about two-party conversations.
//
// # Service
//
//	svc := conversation.New(conversation.Config{
//		Store:    st,
//		Presence: registry,
//		Locker:   pairlock.NewMemoryLocker(),
//	})
//
// Key operations:
//
//   - ResolveOrCreate(ctx, a, b): the single conversation for {a, b}
//   - AppendMessage(ctx, id, msg): persist at the end of the conversation
//   - MarkSeen(ctx, id, author): flip seen on author's unseen messages
//   - SummariesFor(ctx, identity): conversation list, most recent first
//   - Profile(ctx, identity), History(ctx, a, b): the message-page reads
//
// # One Conversation Per Pair
//
// Two participants sending at the same moment both look up the pair, both
// find nothing and both try to insert. The store's unique pair index lets
// exactly one insert win; the other gets store.ErrDuplicateConversation and
// re-reads the winner. An optional pairlock.Locker around the lookup and
// insert keeps the losing insert from happening in the common case, but the
// store constraint is what guarantees the result.
//
// # Views
//
// Profile, MessageView and Summary carry the JSON names used on the wire.
// Online flags are read from the presence registry when a view is built and
// are not updated afterwards.
package conversation
