package subscriptions

import (
	"database/sql"
	"strings"
	"testing"
)

// execRecorder implementa conn.DBTX registrando cada sentencia ejecutada.
// Exec reporta las filas afectadas configuradas, igual que el driver de
// MySQL, que cuenta filas cambiadas y no filas coincidentes.
type execRecorder struct {
	affected int64
	stmts    []string
}

type execResult struct{ affected, lastID int64 }

func (r execResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r execResult) RowsAffected() (int64, error) { return r.affected, nil }

func (r *execRecorder) Exec(query string, args ...interface{}) (sql.Result, error) {
	r.stmts = append(r.stmts, query)
	return execResult{affected: r.affected, lastID: 2}, nil
}

func (r *execRecorder) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (r *execRecorder) QueryRow(query string, args ...interface{}) *sql.Row { return nil }

func TestUpsertSubscription_RedeliveryIdenticalValuesDoesNotInsert(t *testing.T) {
	// Una redelivery escribe exactamente los mismos valores, así que el
	// UPDATE reporta 0 filas cambiadas aunque la fila exista. Con fila
	// previa el upsert jamás debe caer al INSERT.
	rec := &execRecorder{affected: 0}
	st := NewStore(rec)

	end := baseTime.AddDate(0, 1, 0)
	et := baseTime
	prior := &Subscription{ID: 7, UserID: 10}
	sub := &Subscription{
		UserID:             10,
		PlanID:             intPtr(1),
		Status:             StatusActive,
		CurrentPeriodStart: baseTime,
		CurrentPeriodEnd:   &end,
		PaymentProvider:    "stripe",
		InvoiceID:          "in_1",
		EventTime:          &et,
	}
	if err := st.UpsertSubscription(prior, sub); err != nil {
		t.Fatal(err)
	}
	if len(rec.stmts) != 1 {
		t.Fatalf("esperaba solo el UPDATE, se ejecutaron: %v", rec.stmts)
	}
	if !strings.HasPrefix(rec.stmts[0], "UPDATE subscriptions") || !strings.Contains(rec.stmts[0], "WHERE id=?") {
		t.Fatalf("el UPDATE debe apuntar a la fila bloqueada por id: %s", rec.stmts[0])
	}
	if sub.ID != 7 {
		t.Fatalf("debe conservar la fila previa (id=7), quedó id=%d", sub.ID)
	}
}

func TestUpsertSubscription_InsertsWhenNoPriorRow(t *testing.T) {
	rec := &execRecorder{affected: 1}
	st := NewStore(rec)

	sub := &Subscription{UserID: 10, Status: StatusActive, CurrentPeriodStart: baseTime, PaymentProvider: "stripe"}
	if err := st.UpsertSubscription(nil, sub); err != nil {
		t.Fatal(err)
	}
	if len(rec.stmts) != 1 || !strings.HasPrefix(rec.stmts[0], "INSERT INTO subscriptions") {
		t.Fatalf("sin fila previa corresponde un INSERT: %v", rec.stmts)
	}
	if sub.ID != 2 {
		t.Fatalf("debe tomar el id insertado: %d", sub.ID)
	}
}
