package accounting

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fresco-hpc/fresco-etl/common"
)

const accountingHeader = "jobID,host,record_type,qtime,start,end,Resource_List.walltime," +
	"Resource_List.nodect,Resource_List.ncpus,account,queue,jobname,Exit_status,user,exec_host\n"

func writeAccounting(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounting.csv")
	require.NoError(t, os.WriteFile(path, []byte(accountingHeader+rows), 0o644))
	return path
}

func TestLoadFiltersToEndRecords(t *testing.T) {
	a := assert.New(t)
	path := writeAccounting(t,
		"jobID100,n1,S,01/01/2017 00:00:00,01/01/2017 01:00:00,01/01/2017 02:00:00,01:00:00,1,16,acct,debug,myjob,0,alice,NODE01/0\n"+
			"jobID100,n1,E,01/01/2017 00:00:00,01/01/2017 01:00:00,01/01/2017 02:00:00,01:00:00,1,16,acct,debug,myjob,0,alice,NODE01/0\n"+
			"jobID200,n2,D,01/01/2017 00:00:00,01/01/2017 01:00:00,01/01/2017 02:00:00,01:00:00,1,16,acct,debug,other,0,bob,NODE02/0\n")

	jobs, err := NewLoader(nil).Load(path)
	a.NoError(err)
	require.Len(t, jobs, 1)

	rec, ok := jobs["job100"]
	require.True(t, ok, "jobID prefix must normalize to job")
	a.Equal("alice", rec.User)
	a.Equal("debug", rec.Queue)
	a.Equal(float64(16), rec.NCores)
	a.Equal(time.Date(2017, 1, 1, 1, 0, 0, 0, time.UTC), rec.StartTime)
	require.NotNil(t, rec.WalltimeSeconds)
	a.Equal(3600.0, *rec.WalltimeSeconds)
	require.NotNil(t, rec.ExitStatus)
	a.Equal(int64(0), *rec.ExitStatus)
}

func TestLoadDeduplicatesKeepingLatestEnd(t *testing.T) {
	a := assert.New(t)
	path := writeAccounting(t,
		"job300,n1,E,01/01/2017 00:00:00,01/01/2017 01:00:00,01/01/2017 02:00:00,30:00,1,8,acct,debug,j,0,carol,NODE01/0\n"+
			"job300,n1,E,01/01/2017 00:00:00,01/01/2017 01:00:00,01/01/2017 05:00:00,30:00,1,8,acct,debug,j,7,carol,NODE01/0\n"+
			"job300,n1,E,01/01/2017 00:00:00,01/01/2017 01:00:00,01/01/2017 03:00:00,30:00,1,8,acct,debug,j,1,carol,NODE01/0\n")

	jobs, err := NewLoader(nil).Load(path)
	a.NoError(err)
	require.Len(t, jobs, 1)
	rec := jobs["job300"]
	a.Equal(time.Date(2017, 1, 1, 5, 0, 0, 0, time.UTC), rec.EndTime)
	require.NotNil(t, rec.ExitStatus)
	a.Equal(int64(7), *rec.ExitStatus)
}

func TestLoadMissingFileIsReadError(t *testing.T) {
	a := assert.New(t)
	_, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "nope.csv"))
	a.Error(err)
	a.True(common.IsKind(err, common.EErrorKind.Source()))
}

func TestParseWalltime(t *testing.T) {
	a := assert.New(t)
	cases := []struct {
		in   string
		want *float64
	}{
		{"01:30:00", f(5400)},
		{"02:15", f(135)},
		{"45", f(45)},
		{"3600.5", f(3600.5)},
		{"NULL", nil},
		{"N/A", nil},
		{"", nil},
		{"1:2:3:4", nil},
		{"abc", nil},
		{"1:xx", nil},
	}
	for _, c := range cases {
		got := ParseWalltime(c.in)
		if c.want == nil {
			a.Nil(got, c.in)
		} else {
			require.NotNil(t, got, c.in)
			a.Equal(*c.want, *got, c.in)
		}
	}
}

func TestNormalizeJobID(t *testing.T) {
	a := assert.New(t)
	a.Equal("job8976", NormalizeJobID("jobID8976"))
	a.Equal("job8976", NormalizeJobID("JOBID8976"))
	a.Equal("job8976", NormalizeJobID("job8976"))
	a.Equal("8976", NormalizeJobID("8976"))
}

func TestNullExitStatusStaysNull(t *testing.T) {
	a := assert.New(t)
	path := writeAccounting(t,
		"job400,n1,E,01/01/2017 00:00:00,01/01/2017 01:00:00,01/01/2017 02:00:00,NULL,2,32,acct,long,j,N/A,dave,NODE05/0+NODE06/0\n")

	jobs, err := NewLoader(nil).Load(path)
	a.NoError(err)
	rec := jobs["job400"]
	a.Nil(rec.ExitStatus)
	a.Nil(rec.WalltimeSeconds)
	a.Equal(float64(2), rec.NHosts)
}

func f(v float64) *float64 { return &v }
