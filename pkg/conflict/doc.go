/*
Package conflict detects divergence between queued local mutations and
authoritative server state, and settles each detected conflict exactly once
through a named strategy.

Built-in strategies:

	server-wins      keep the server data, nothing to re-sync
	client-wins      keep the local data, always re-sync
	last-write-wins  newer timestamp wins, warns when local changes are discarded
	merge            server data overlaid with local fields, always re-sync
	manual           defer to a human, resolved value is nil
*/
package conflict
