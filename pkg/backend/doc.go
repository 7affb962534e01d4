/*
Package backend contains the two protocol clients that turn a document into an image.

BinaryClient speaks the framed binary protocol over pooled TCP connections and retries
transport faults with fresh connections. SignedClient addresses an HTTP rendering service with
an HMAC-signed URL and also tells the caller whether that URL is short enough to be posted
as a link (fast delivery) or whether the image has to be fetched and re-uploaded (slow delivery).

Both clients return the image bytes or an error that domain.Classify understands.
*/
package backend
