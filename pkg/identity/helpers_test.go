package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/sqlid/pkg/store"
)

// planet is the business object used by most tests.
type planet struct {
	Name string
	Size string
}

func planetTraits() Traits[planet] {
	return Traits[planet]{
		Table:      "planets",
		PrimaryKey: "id",
		New: func(_ *store.Conn) (planet, error) {
			return planet{}, nil
		},
		Load: func(c *store.Conn, id ID) (planet, error) {
			st, err := c.Statement("select name, size from planets where id = :id")
			if err != nil {
				return planet{}, err
			}
			defer st.Close()

			if err := st.Bind(":id", id); err != nil {
				return planet{}, err
			}
			if _, err := st.Step(); err != nil {
				return planet{}, err
			}
			name, err := st.ColumnText(0)
			if err != nil {
				return planet{}, err
			}
			size, err := st.ColumnText(1)
			if err != nil {
				return planet{}, err
			}
			return planet{Name: name, Size: size}, nil
		},
	}
}

// newPlanetFixture opens an in-memory database seeded with three planets
// (ids 1..3) and builds the identity map for them.
func newPlanetFixture(t *testing.T) (*store.Conn, *Map[planet]) {
	t.Helper()

	c, err := store.Open(store.Config{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.ExecScript(`
		create table planets(
			id integer primary key autoincrement,
			name text not null unique,
			size text not null
		);
		insert into planets(name, size) values('Mercury', 'small');
		insert into planets(name, size) values('Venus', 'medium');
		insert into planets(name, size) values('Earth', 'medium');
	`))

	return c, NewMap(c, planetTraits())
}

// savePlanet persists a new record and re-keys its cache entry.
func savePlanet(t *testing.T, c *store.Conn, m *Map[planet], h Handle[planet]) ID {
	t.Helper()

	v, err := h.Value()
	require.NoError(t, err)

	st, err := c.Statement("insert into planets(name, size) values(:name, :size)")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Bind(":name", v.Name))
	require.NoError(t, st.Bind(":size", v.Size))
	require.NoError(t, st.StepFinal())

	id := c.LastInsertID()
	require.NoError(t, m.NotifyPersisted(h, id))
	return id
}

// shape and its implementations exercise polymorphic maps keyed by a
// base table.
type shape interface {
	Area() float64
}

type circle struct {
	Radius float64
}

func (c circle) Area() float64 { return 3.141592653589793 * c.Radius * c.Radius }

type rectangle struct {
	Width  float64
	Height float64
}

func (r rectangle) Area() float64 { return r.Width * r.Height }

func shapeTraits() Traits[shape] {
	return Traits[shape]{
		Table:      "shapes",
		PrimaryKey: "id",
		New: func(_ *store.Conn) (shape, error) {
			return nil, nil
		},
		Load: func(c *store.Conn, id ID) (shape, error) {
			st, err := c.Statement("select kind, dim_a, dim_b from shapes where id = :id")
			if err != nil {
				return nil, err
			}
			defer st.Close()

			if err := st.Bind(":id", id); err != nil {
				return nil, err
			}
			if _, err := st.Step(); err != nil {
				return nil, err
			}
			kind, err := st.ColumnText(0)
			if err != nil {
				return nil, err
			}
			a, err := st.ColumnFloat(1)
			if err != nil {
				return nil, err
			}
			switch kind {
			case "circle":
				return circle{Radius: a}, nil
			case "rectangle":
				b, err := st.ColumnFloat(2)
				if err != nil {
					return nil, err
				}
				return rectangle{Width: a, Height: b}, nil
			}
			return nil, ErrTypeMismatch
		},
	}
}

func newShapeFixture(t *testing.T) (*store.Conn, *Map[shape]) {
	t.Helper()

	c, err := store.Open(store.Config{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.ExecScript(`
		create table shapes(
			id integer primary key autoincrement,
			kind text not null,
			dim_a float not null,
			dim_b float
		);
		insert into shapes(kind, dim_a) values('circle', 2.0);
		insert into shapes(kind, dim_a, dim_b) values('rectangle', 3.0, 4.0);
	`))

	return c, NewMap(c, shapeTraits())
}
