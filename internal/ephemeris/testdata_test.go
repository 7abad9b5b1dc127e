package ephemeris

import (
	"fmt"
	"strings"
)

// vectorTable builds a Horizons-style result string with one step per coordinate triple.
func vectorTable(name string, coords [][3]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*******************************************************************************\n")
	fmt.Fprintf(&b, " Revised: July 31, 2013             %s\n", name)
	fmt.Fprintf(&b, "*******************************************************************************\n")
	fmt.Fprintf(&b, "$$SOE\n")
	for i, c := range coords {
		fmt.Fprintf(&b, "%.9f = A.D. 2024-Oct-%02d 00:00:00.0000 TDB \n", 2460584.5+float64(i), i+1)
		fmt.Fprintf(&b, " X =%22.15E Y =%22.15E Z =%22.15E\n", c[0], c[1], c[2])
		fmt.Fprintf(&b, " VX= 1.000000000000000E+01 VY=-2.000000000000000E+01 VZ= 3.000000000000000E-01\n")
		fmt.Fprintf(&b, " LT= 4.9E+02 RG= 1.4E+08 RR=-1.0E-01\n")
	}
	fmt.Fprintf(&b, "$$EOE\n")
	fmt.Fprintf(&b, "*******************************************************************************\n")
	return b.String()
}
