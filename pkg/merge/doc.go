/*
Package merge reconciles a local and a remote GraphOperation on the same entity.

Every Strategy is a pure function of (local, remote, base): the same inputs
always produce the same MergeResult. The Manager picks a strategy per entity
and merges whole operation lists.
*/
package merge
