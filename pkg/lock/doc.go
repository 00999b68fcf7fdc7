/*
Package lock serializes work on a single execution instance.

A Manager combines an in-process, reference counted mutex per key with an
optional ports.DistributedLocker, so resume and event handling for one
instance never overlap, whether the competing call comes from this process or
from another replica.
*/
package lock
