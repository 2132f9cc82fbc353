// Package placement provides the rack scatter placement policy used by the
// replication handlers. Replicas of a container are spread over as many racks
// as the cluster has, up to one rack per replica, and new targets are taken
// from the least used racks first.
package placement
