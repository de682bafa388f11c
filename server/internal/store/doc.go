// Package store keeps the recent KPI snapshot history of every dataset in
// memory. Datasets that receive no upload within the TTL are evicted by Run;
// callbacks registered with OnEvict run after the lock is released.
package store
