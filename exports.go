package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// exportStatementHandler streams one statement's transactions as an xlsx
// workbook for back-office review.
func exportStatementHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid statement id"})
			return
		}

		stmt, err := models.GetBankStatement(c.Request.Context(), id)
		if errors.Is(err, models.ErrStatementNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "statement not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not load statement"})
			return
		}

		f := excelize.NewFile()
		sheet := "Transactions"
		f.SetSheetName("Sheet1", sheet)

		headers := []string{"Date", "Description", "Entity", "Credit", "Debit", "Balance", "Category", "Page"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			f.SetCellValue(sheet, cell, h)
		}

		for i := range stmt.Transactions {
			tx := &stmt.Transactions[i]
			row := i + 2

			date := ""
			if tx.TransactionDate != nil {
				date = tx.TransactionDate.Format("2006-01-02")
			}
			balance := ""
			if tx.Balance != nil {
				balance = tx.Balance.StringFixed(2)
			}

			values := []interface{}{
				date,
				tx.Description,
				tx.EntityName,
				tx.CreditAmount.StringFixed(2),
				tx.DebitAmount.StringFixed(2),
				balance,
				tx.Category,
				tx.PageNumber,
			}
			for j, v := range values {
				cell, _ := excelize.CoordinatesToCellName(j+1, row)
				f.SetCellValue(sheet, cell, v)
			}
		}

		bankName := ""
		if stmt.Bank != nil {
			bankName = stmt.Bank.Name
		}
		fileName := fmt.Sprintf("statement-%d-%s-%s.xlsx", stmt.ID, bankName, stmt.AccountNumber)

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
		if err := f.Write(c.Writer); err != nil {
			config.LogError(logger, "exports.go", "exportStatementHandler", "write workbook", stmt.ID, err)
		}
	}
}
