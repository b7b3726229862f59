package payroll

// Export category codes with dedicated summary figures.
const (
	ExportHousing   = "housing"
	ExportTransport = "transport"
	ExportOvertime  = "overtime"
)

// buildSummary aggregates visible payslip lines into the headline
// figures. Classification goes through the line's category type; housing,
// transport and overtime are picked out by export category. When no
// explicit gross/net rule fired, gross and net are derived from the
// component figures.
func buildSummary(lines []PayslipLine, catIndex map[string]*Category) Summary {
	var s Summary
	var haveGross, haveNet bool
	var otherAllowances float64

	for _, line := range lines {
		var catType CategoryType
		if c, ok := catIndex[line.CategoryCode]; ok {
			catType = c.Type
		}

		switch catType {
		case CategoryBasic:
			s.BasicWage += line.Total
		case CategoryGross:
			s.GrossWage = line.Total
			haveGross = true
		case CategoryNet:
			s.NetWage = line.Total
			haveNet = true
		case CategoryDeduction:
			d := line.Total
			if d < 0 {
				d = -d
			}
			s.TotalDeductions += d
		default:
			switch line.ExportCategory {
			case ExportHousing:
				s.HousingAllowance += line.Total
			case ExportTransport:
				s.TransportAllowance += line.Total
			case ExportOvertime:
				s.OvertimeAmount += line.Total
			default:
				if catType == CategoryAllowance {
					otherAllowances += line.Total
				}
			}
		}
	}

	s.OtherAllowances = otherAllowances

	if !haveGross {
		s.GrossWage = s.BasicWage + s.HousingAllowance + s.TransportAllowance +
			s.OtherAllowances + s.OvertimeAmount
	}
	if !haveNet {
		s.NetWage = s.GrossWage - s.TotalDeductions
	}

	return s
}
