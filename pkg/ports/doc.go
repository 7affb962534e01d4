/*
Package ports defines the driven ports (interfaces) for the render pipeline.

These interfaces decouple the delivery controller from external implementations,
allowing it to work with various storage backends.

# Key Interfaces

  - KeyStore: namespaced key-value storage for requester records, colour
    preferences, feature flags and the edit index.
  - DistributedLocker: cross-replica serialization of edit re-renders.
*/
package ports
