// Package fedtest provides a two-service federation with seeded fake services
// for package tests.
package fedtest

import (
	"context"
	"testing"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/discovery"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/stretchr/testify/require"
)

const PetsOverall = `
type Query {
  dog(id: ID!): Dog
  dogs: [Dog!]!
  pets: [Pet]
  catalog: Catalog @namespaced
}
type Mutation {
  renameDog(id: ID!, name: String!): Dog
}
type Catalog { breeds: [String] }
interface Pet { id: ID! name: String }
type Dog implements Pet @renamed(from: "Canine") {
  id: ID!
  name: String
  age: Int @renamed(from: "years")
  collarName: String @renamed(from: "collar.name")
  owner: User @hydrated(service: "users", field: "user", arguments: [{name: "id", value: "$source.ownerId"}])
  friends: [User] @hydrated(service: "users", field: "usersByIds", arguments: [{name: "ids", value: "$source.friendIds"}], batchSize: 2)
}
type Cat implements Pet { id: ID! name: String lives: Int }
`

const PetsUnderlying = `
type Query {
  dog(id: ID!): Canine
  dogs: [Canine!]!
  pets: [Pet]
  catalog: Catalog
}
type Mutation {
  renameDog(id: ID!, name: String!): Canine
}
type Catalog { breeds: [String] }
interface Pet { id: ID! name: String }
type Canine implements Pet { id: ID! name: String years: Int collar: Collar ownerId: ID friendIds: [ID!] }
type Collar { name: String }
type Cat implements Pet { id: ID! name: String lives: Int }
`

const UsersOverall = `
type Query {
  user(id: ID!): User
  usersByIds(ids: [ID!]!): [User]
  catalog: Catalog @namespaced
}
extend type Catalog { sellers: [User] }
type User { id: ID! name: String }
`

// Blueprint builds the pets and users federation.
func Blueprint(t testing.TB) *blueprint.Blueprint {
	t.Helper()
	bp, err := blueprint.Build(context.Background(), discovery.NewInMemoryDiscovery([]discovery.InMemoryService{
		{Name: "pets", Overall: PetsOverall, Underlying: PetsUnderlying},
		{Name: "users", Overall: UsersOverall},
	}))
	require.NoError(t, err)
	return bp
}

// Services returns freshly seeded fakes keyed by service name.
func Services() (pets, users *Service, all map[string]service.Execution) {
	pets, users = Pets(), Users()
	return pets, users, map[string]service.Execution{"pets": pets, "users": users}
}
