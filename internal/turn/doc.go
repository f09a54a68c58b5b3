// Package turn orchestrates one conversational turn as a background unit of
// work.
//
// # Overview
//
// A turn starts when a user message has been stored. Trigger spawns a
// goroutine that asks the Generator for fragments and, for each one, appends
// it to the store (durable, seq-assigned) and then publishes it to the
// broker. The trigger caller gets nothing back: the turn's progress and its
// failures are observable only through the message stream.
//
// # Completion
//
// Every turn ends in exactly one Done fragment, always last. A generator
// error, a store write failure, a timeout, or a generator that quietly stops
// all produce a terminal system/error fragment instead, so no live reader
// ever waits forever and a failed turn looks like a completed turn whose
// final message carries an error.
//
// # Ordering requirement
//
// Subscribers that want to observe a turn live must connect to the broker
// before Trigger is called. The append-before-publish rule guarantees that
// anything seen live is already durable.
package turn
