// Package testutil provides fixtures and mocks shared by the package tests.
//
// Meshes: Cube builds an n×n×n grid of c3d8 elements with unit spacing,
// Mixed a small mesh of several element types, and CubeSkin the outer faces
// of a cube as a skin object.
//
// Datasets: WriteTimestep lays out one timestep of a local dataset below a
// data directory (nodes, elements, skins, nodal and elemental fields);
// CubeTimestep fills one for a cube.
//
// NATS: MockNATSClient records published messages per subject in memory.
// NewDisconnectedMockNATSClient fails its first connects, which exercises
// reconnect handling without a server. WaitForMessage and AssertNoMessages
// check what was published.
package testutil
