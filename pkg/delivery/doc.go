/*
Package delivery turns a render request into exactly one response message.

The Controller builds the document, renders it through a Renderer, and posts the
result (an image, a link, or a single text notice) back to the request's Origin.
Follow-ups act on that same message: an edit of the triggering message re-renders
in place, and the requester (and only the requester) can retract the response by
reacting with TrashEmoji.

Chat platforms plug in by implementing Origin and Platform.
*/
package delivery
