// Package cache provides a small TTL cache used to absorb repeated reads of
// remote resources, such as transaction lookups made while webhook side
// effects are applied. Writes go through Middleware.Invalidate so a cached
// read never outlives the write that changed it.
package cache
