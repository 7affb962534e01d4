/*
Package domain contains the core value types of the texrender pipeline.

It defines what a render request is, what the backend receives and how the result of a render
attempt is classified. This package is kept pure and free of I/O so that the builder, the protocol
clients and the delivery controller can share it without depending on each other.

# Key Entities

  - RenderRequest: who asked for a render, the raw source and how it should be presented.
  - Document: the backend-ready markup produced by the document builder.
  - Outcome: the classification of a render attempt (Image, RenderingFailed, Timeout, TransportFault).
  - ColorScheme: the background/text colour pair spliced into every document.
*/
package domain
