/*
Package queue implements the offline mutation queue.

Mutations move through pending, syncing, and then either leave the queue
(synced), return to pending for another pass, or stop at failed once their
retries are exhausted. Every transition is written to the MutationStore before
the in-memory record changes, so after a crash at most one record is stale and
Restore brings it back to pending.

Retries are paced by the caller: a pass never sleeps between attempts. Run Sync
from a ticker, on reconnect (see SetOnline), or on demand.
*/
package queue
