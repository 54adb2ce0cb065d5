// Package index holds typed edges between the domain, intent and component
// graphs and answers criteria queries from secondary buckets.
package index
