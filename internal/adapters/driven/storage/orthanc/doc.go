// Package orthanc provides Store adapters for an Orthanc DICOM archive.
//
// Archive talks to the archive's REST API directly: it stores and deletes
// instances, reads simplified tags and pushes resources to peers. Proxy
// layers a remote modality on top of an Archive and resolves dixels through
// the query, answer and retrieve handshake:
//
//	POST /modalities/{aet}/query                     -> query id (QID)
//	GET  /queries/{qid}/answers                      -> answer ids (AID)
//	GET  /queries/{qid}/answers/{aid}/content        -> candidate tags
//	POST /queries/{qid}/answers/{aid}/retrieve       -> series pulled locally
//
// # Inventory
//
// The inventory is the set of instance ids listed by GET /instances. It is
// cached per store under the configured cache policy in a file named after
// the connection identity, and is invalidated after successful puts and
// deletes.
//
// # Copy policies
//
// Copies are dispatched through a transfer.Matrix. PushToPeer implements
// archive to archive copies with POST /peers/{peer}/store.
package orthanc
