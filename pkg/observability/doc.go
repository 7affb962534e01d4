/*
Package observability provides the Prometheus instruments of the render pipeline.

A single Metrics value is shared by the pool, the protocol clients and the delivery controller.
All methods are safe to call on a nil *Metrics, so components that were not given one simply
skip instrumentation.
*/
package observability
